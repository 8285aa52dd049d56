// Package log holds the logrus setup shared by binaries and tests.
package log

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/twitter/tollgate/common/log/hooks"
)

// Tests log at this level (or TestLevelEnv's value when set).
const (
	TestLevelEnv     = "TOLLGATE_LOGLEVEL"
	DefaultTestLevel = logrus.WarnLevel
)

// Configure sets the global logrus level and adds the file:line context hook.
func Configure(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	logrus.AddHook(hooks.NewContextHook())
	logrus.SetLevel(l)
	return nil
}

func ConfigureForTest() {
	level := os.Getenv(TestLevelEnv)
	if level == "" {
		level = DefaultTestLevel.String()
	}
	if err := Configure(level); err != nil {
		logrus.SetLevel(DefaultTestLevel)
	}
}
