package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var Logger = logrus.New()

// Init configures the shared logger. JSON output is used whenever the service
// runs outside development so log collectors can parse it.
func Init(debug bool) {
	Logger.SetOutput(os.Stdout)

	if os.Getenv("APP_ENV") == "production" {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if debug {
		Logger.SetLevel(logrus.DebugLevel)
	} else {
		Logger.SetLevel(logrus.InfoLevel)
	}
}
