// Package logging wires ectologger onto a zap core so log output is
// structured JSON in production and readable in local development.
package logging

import (
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
)

// New builds the service logger. Every ectologger message is forwarded to zap
// as a single pre-rendered payload; PrettyLogs switches to the development
// console encoder.
func New(appName string, pretty bool) (ectologger.Logger, func(), error) {
	var zlog *zap.Logger
	var err error

	if pretty {
		zlog, err = zap.NewDevelopment()
	} else {
		zlog, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, err
	}

	zlog = zlog.Named(appName)

	sink := func(msg ectologger.EctoLogMessage) {
		if pretty {
			zlog.Info(fmt.Sprintf("%+v", msg))
			return
		}
		payload, merr := json.Marshal(msg)
		if merr != nil {
			zlog.Info(fmt.Sprintf("%+v", msg))
			return
		}
		zlog.Info(string(payload))
	}

	logger := ectologger.NewEctoLogger(sink)

	cleanup := func() {
		_ = zlog.Sync()
	}

	return logger, cleanup, nil
}
