package spine_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSpine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Spine Suite")
}
