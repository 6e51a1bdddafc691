// Package viz renders the balancer in the terminal.
//
// [LivePlot] is a Bubble Tea program fed by the balance loop: it draws the
// wheeled pendulum on a braille [Canvas] and plots the trajectory predicted
// by the model predictive controller with asciigraph.
//
// # Key Bindings
//
//	Space - Freeze/unfreeze the display
//	P     - Cycle the predicted signal (pitch, position, acceleration)
//	Q     - Quit and stop the balancer
package viz
