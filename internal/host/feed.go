// Package host follows the newline delimited JSON event file written by the game side bridge
// and dispatches each event to the avatar manager.
package host

import (
	"context"
	"encoding/json"
	"io"
	"runtime"
	"strings"

	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/nxadm/tail"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrMalformedEvent = errors.New("malformed event")

type Handler interface {
	HandleEvent(ctx context.Context, event model.HostEvent) error
}

type Option func(f *feedOptions)

type feedOptions struct {
	fromStart bool
	echo      bool
}

// FromStart replays events already present in the file instead of only following new ones.
func FromStart() Option {
	return func(f *feedOptions) {
		f.fromStart = true
	}
}

// Echo enables the internal logging of the tail library.
func Echo() Option {
	return func(f *feedOptions) {
		f.echo = true
	}
}

// Feed follows the bridge event file. Invalid lines are logged and skipped.
type Feed struct {
	tail    *tail.Tail
	log     *zap.Logger
	handler Handler
}

func NewFeed(logger *zap.Logger, path string, handler Handler, opts ...Option) (*Feed, error) {
	var options feedOptions
	for _, opt := range opts {
		opt(&options)
	}

	tailLogger := tail.DiscardingLogger
	if options.echo {
		tailLogger = tail.DefaultLogger
	}

	location := &tail.SeekInfo{
		Offset: 0,
		Whence: io.SeekEnd,
	}
	if options.fromStart {
		location = nil
	}

	//goland:noinspection GoBoolExpressions
	tailConfig := tail.Config{
		Location:  location,
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      runtime.GOOS == "windows",
		Logger:    tailLogger,
	}

	tailFile, errTail := tail.TailFile(path, tailConfig)
	if errTail != nil {
		return nil, errors.Wrap(errTail, "Failed to configure tail")
	}

	return &Feed{
		tail:    tailFile,
		log:     logger.Named("host"),
		handler: handler,
	}, nil
}

// ParseEvent decodes a single line of the event file.
func ParseEvent(line string) (model.HostEvent, error) {
	var event model.HostEvent

	decoder := json.NewDecoder(strings.NewReader(line))
	decoder.DisallowUnknownFields()

	if errDecode := decoder.Decode(&event); errDecode != nil {
		return event, errors.Wrap(ErrMalformedEvent, errDecode.Error())
	}

	if errValidate := event.Validate(); errValidate != nil {
		return event, errValidate
	}

	return event, nil
}

// Start dispatches events until ctx is cancelled.
func (f *Feed) Start(ctx context.Context) error {
	for {
		select {
		case msg, ok := <-f.tail.Lines:
			if !ok {
				return errors.Wrap(f.tail.Err(), "Event feed closed")
			}

			if msg == nil {
				continue
			}

			if msg.Err != nil {
				f.log.Warn("Event feed read error", zap.Error(msg.Err))

				continue
			}

			f.dispatch(ctx, strings.TrimSuffix(msg.Text, "\r"))
		case <-ctx.Done():
			if errStop := f.tail.Stop(); errStop != nil {
				f.log.Error("Failed to stop tailing event file cleanly", zap.Error(errStop))
			}

			f.tail.Cleanup()

			return nil
		}
	}
}

func (f *Feed) dispatch(ctx context.Context, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	event, errParse := ParseEvent(line)
	if errParse != nil {
		f.log.Warn("Skipping invalid event", zap.String("line", line), zap.Error(errParse))

		return
	}

	if errHandle := f.handler.HandleEvent(ctx, event); errHandle != nil {
		f.log.Warn("Failed to handle event", zap.String("type", string(event.Type)), zap.Error(errHandle))

		return
	}

	f.log.Debug("Handled event", zap.String("type", string(event.Type)),
		zap.String("id", event.Identity.String()))
}
