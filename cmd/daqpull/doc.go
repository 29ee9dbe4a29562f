// Command daqpull runs the acquisition pull daemon and offers operator
// tooling for inspecting its queues, unit health, and configuration.
package main
