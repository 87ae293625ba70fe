package main

import (
	"bytes"

	"github.com/srg/blez/internal/testutils"
)

const (
	firmataAddr = "AA:BB:CC:DD:EE:FF"
	uartRX      = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	uartTX      = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// CommandTestSuite runs cobra commands against the fake daemon.
type CommandTestSuite struct {
	testutils.FakeBusSuite

	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func (s *CommandTestSuite) SetupTest() {
	s.FakeBusSuite.SetupTest()
	resetFlags()
	s.stdout = new(bytes.Buffer)
	s.stderr = new(bytes.Buffer)
}

// resetFlags restores every package-level flag; cobra keeps values between runs.
func resetFlags() {
	configPath = ""
	scanDurationFlag = ""
	noColor = false
	scanFormat = "table"
	readHex = false
	writeHex = false
	notifyDuration = 0
	notifyCount = 0
	propsJSON = false
	bridgeRX = nordicUARTRX
	bridgeTX = nordicUARTTX
	bridgeChunk = 20
	bridgeDuration = 0
	_ = rootCmd.PersistentFlags().Set("log-level", "")
	_ = rootCmd.PersistentFlags().Set("verbose", "false")
}

// Execute runs the root command with args and a short scan window.
func (s *CommandTestSuite) Execute(args ...string) error {
	rootCmd.SetOut(s.stdout)
	rootCmd.SetErr(s.stderr)
	rootCmd.SetArgs(append(args, "--scan-duration", "5ms"))
	return rootCmd.Execute()
}
