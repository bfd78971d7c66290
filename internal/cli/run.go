package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/agentstress/internal/agent"
	"github.com/studiowebux/agentstress/internal/certprobe"
	"github.com/studiowebux/agentstress/internal/config"
	"github.com/studiowebux/agentstress/internal/logtail"
	"github.com/studiowebux/agentstress/internal/stress"
	"github.com/studiowebux/agentstress/internal/traffic"
	"github.com/studiowebux/agentstress/internal/validate"
)

// RunOptions configures the full stress loop
type RunOptions struct {
	GlobalOptions
	ConfigFile string
	LoopTimes  int // overrides the config when > 0
}

// Run executes the stress loop until it finishes or Ctrl-C is pressed
func Run(opts RunOptions) error {
	file := opts.ConfigFile
	if file == "" {
		file = config.DefaultToolFile
	}

	s, err := openSession(opts.GlobalOptions, true)
	if err != nil {
		return err
	}
	defer s.Close()

	tool, err := config.LoadTool(file, s.component("config"))
	if err != nil {
		return err
	}
	if opts.LoopTimes > 0 {
		tool.LoopTimes = opts.LoopTimes
	}
	if tool.LogLevel != "" && opts.LogLevel == "" {
		if err := setLevel(s, tool.LogLevel); err != nil {
			return err
		}
	}

	tailer := logtail.New(tool.Agent.LogPath, logtail.WithLogger(s.component("logtail")))
	vlog := s.component("validate")
	runner := &stress.Runner{
		Tool:      tool,
		Service:   agent.NewSCController(s.component("service")),
		Traffic:   traffic.NewDispatcher(s.component("traffic")),
		Logs:      tailer,
		Validator: validate.New(tailer, certprobe.New(vlog), tool.ValidateOptions(), vlog),
		Log:       s.component("stress"),
	}
	if s.store != nil {
		runner.Recorder = s.store
	}

	ctx, cancel := signalContext()
	defer cancel()

	s.logger.Info("Press Ctrl+C to stop the loop.")
	sum := runner.Run(ctx)
	renderSummary(s.out, sum, s.logFile)
	return nil
}

func setLevel(s *session, level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	s.logger.SetLevel(parsed)
	return nil
}
