package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stephane-caron/proxqp-balancer/internal/deploy"
)

func newUploadCmd() *cobra.Command {
	var srcDir string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "copy the working tree to the robot named by $UPKIE_NAME",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := deploy.HostFromEnv()
			if err != nil {
				return err
			}
			logger.Info("uploading", "host", host, "src", srcDir, "dst", deploy.RemoteDir)
			return deploy.Upload(cmd.Context(), deploy.ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}, host, srcDir)
		},
	}
	cmd.Flags().StringVar(&srcDir, "src", ".", "directory to upload")
	return cmd
}

func newSetDateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-date",
		Short: "set the robot clock to the local time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := deploy.HostFromEnv()
			if err != nil {
				return err
			}
			return deploy.SetDate(cmd.Context(), deploy.ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}, host, time.Now())
		},
	}
}

func newPackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack [dir] [archive.tar.gz]",
		Short: "archive a directory for offline transfer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deploy.Pack(args[0], args[1]); err != nil {
				return err
			}
			logger.Info("packed", "dir", args[0], "archive", args[1])
			return nil
		},
	}
}

func newUnpackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpack [archive.tar.gz] [dir]",
		Short: "restore a directory archived by pack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deploy.Unpack(args[0], args[1]); err != nil {
				return err
			}
			logger.Info("unpacked", "archive", args[0], "dir", args[1])
			return nil
		},
	}
}
