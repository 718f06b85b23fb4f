package service

import (
	"context"
	"errors"
	"fmt"

	"batterywatch/internal/simulator"
)

// CommandType names a control operation. The set is closed; anything else
// is rejected before execution.
type CommandType string

const (
	CmdStartCollection CommandType = "start_collection"
	CmdStopCollection  CommandType = "stop_collection"
	CmdRetrain         CommandType = "retrain"
	CmdInjectScenario  CommandType = "inject_scenario"
)

var (
	// ErrUnknownCommand rejects command types outside the closed set.
	ErrUnknownCommand = errors.New("service: unknown command")
	// ErrInvalidCommand rejects commands with malformed arguments.
	ErrInvalidCommand = errors.New("service: invalid command")
)

// Command is a validated control request.
type Command struct {
	Type CommandType

	// retrain arguments
	ModelTypes []string
	PeriodDays int
	Force      bool

	// inject_scenario arguments
	Scenario  string
	BatteryID string
	Ticks     int
}

// Execute validates and runs one control command. Retraining happens in
// the background; validation failures are reported synchronously.
func (s *Service) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CmdStartCollection:
		if s.collecting.CompareAndSwap(false, true) {
			s.logger.Info().Msg("collection started")
		}
		return nil

	case CmdStopCollection:
		if s.collecting.CompareAndSwap(true, false) {
			s.logger.Info().Msg("collection stopped")
		}
		return nil

	case CmdRetrain:
		req, err := s.validateRetrain(cmd)
		if err != nil {
			return err
		}
		go s.retrain(context.WithoutCancel(ctx), req)
		return nil

	case CmdInjectScenario:
		return s.injectScenario(cmd)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

func (s *Service) injectScenario(cmd Command) error {
	if s.injector == nil {
		return fmt.Errorf("%w: no scenario injector configured", ErrInvalidCommand)
	}
	scenario, err := simulator.ParseScenario(cmd.Scenario)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if cmd.BatteryID != "" {
		s.mu.RLock()
		_, known := s.batteries[cmd.BatteryID]
		s.mu.RUnlock()
		if !known {
			return fmt.Errorf("%w: unknown battery %q", ErrInvalidCommand, cmd.BatteryID)
		}
	}
	if err := s.injector.InjectScenario(cmd.BatteryID, scenario, cmd.Ticks); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	s.logger.Info().
		Str("scenario", string(scenario)).
		Str("battery_id", cmd.BatteryID).
		Int("ticks", cmd.Ticks).
		Msg("scenario injected")
	return nil
}
