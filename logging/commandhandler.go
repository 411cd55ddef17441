package logging

import (
	"context"
	"reflect"

	"github.com/sirupsen/logrus"

	cqrs "github.com/commercekit/eventflow"
)

// WithCommandLogging wraps a CommandHandler with logging functionality.
// It logs the command type and aggregate ID before execution, and logs
// errors if the command fails.
func WithCommandLogging[C cqrs.Command](logger *logrus.Entry, next cqrs.CommandHandler[C]) cqrs.CommandHandler[C] {
	return func(ctx context.Context, command C) error {
		cmdType := reflect.TypeOf(command).String()
		logger.Infof("Dispatch: %s (aggregateID: %s)", cmdType, command.AggregateID())

		err := next(ctx, command)
		if err != nil {
			logger.Errorf("Dispatch failed: %s (aggregateID: %s): %v", cmdType, command.AggregateID(), err)
		}

		return err
	}
}
