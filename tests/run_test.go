package tests_test

import (
	"testing"

	"github.com/containerd/nerdctl/mod/tigron/expect"
	"github.com/containerd/nerdctl/mod/tigron/test"

	"github.com/farcloser/cadence/tests/testutils"
)

func TestRunCLI(t *testing.T) {
	testCase := testutils.Setup()

	testCase.SubTests = []*test.Case{
		{
			Description: "run with too many arguments fails",
			Command:     test.Command("run", "a", "b"),
			Expected:    test.Expects(expect.ExitCodeGenericFail, nil, nil),
		},
		{
			Description: "run against a synthetic click track converges on its tempo",
			Command:     test.Command("run", "--synth-bpm", "128", "--synth-seconds", "8", "--synth-noise", "0"),
			Expected: func(_ test.Data, _ test.Helpers) *test.Expected {
				return &test.Expected{
					ExitCode: expect.ExitCodeSuccess,
					Output:   expectContains("state=tracking"),
				}
			},
		},
	}

	testCase.Run(t)
}
