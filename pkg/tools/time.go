package tools

import (
	"context"
	"fmt"
	"time"

	_ "time/tzdata"

	"github.com/ncruces/go-strftime"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
)

// Default strftime formats of the format-based get_time variants
const (
	DefaultDateTimeFormat = "%Y-%m-%d %H:%M:%S"
	DefaultClockFormat    = "%H:%M:%S"
	DefaultTimezone       = "UTC"
)

// GetTimeArgs are the arguments of the timezone-based get_time
type GetTimeArgs struct {
	Timezone *string `json:"timezone,omitempty" jsonschema:"default=UTC,description=IANA timezone name such as America/New_York"`
}

// GetFormattedTimeArgs are the arguments of the format-based get_time
type GetFormattedTimeArgs struct {
	Format string `json:"format,omitempty" jsonschema:"description=strftime format string"`
}

// IsValidTimezone reports whether name is a loadable IANA zone, exactly as
// written. The empty name and "Local" are rejected since they do not name a
// zone.
func IsValidTimezone(name string) bool {
	_, err := loadTimezone(name)
	return err == nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("unknown time zone %q", name)
	}
	return time.LoadLocation(name)
}

// NewGetTime returns get_time(timezone="UTC"). Only an absent timezone
// defaults to UTC; an empty one is invalid.
func NewGetTime(opts ...Option) *Tool {
	o := buildOptions(opts)
	return MustNew(GetTimeName, "Returns the current time in the specified timezone",
		func(ctx context.Context, args GetTimeArgs) (string, error) {
			tz := DefaultTimezone
			if args.Timezone != nil {
				tz = *args.Timezone
			}
			o.logger.Info("Tool get_time called", logging.String("timezone", tz))

			loc, err := loadTimezone(tz)
			if err != nil {
				return "", mcperrors.InvalidArgument(GetTimeName, fmt.Sprintf("Invalid timezone: %s", tz))
			}

			now := o.clock().In(loc).Format("15:04:05 MST")
			return fmt.Sprintf("The current time in %s is: %s", tz, now), nil
		})
}

// NewGetFormattedTime returns get_time(format) with the given default format
func NewGetFormattedTime(defaultFormat string, opts ...Option) *Tool {
	o := buildOptions(opts)
	return MustNew(GetTimeName, "Returns the current time",
		func(ctx context.Context, args GetFormattedTimeArgs) (string, error) {
			format := args.Format
			if format == "" {
				format = defaultFormat
			}
			o.logger.Info("Tool get_time called", logging.String("format", format))

			current := strftime.Format(format, o.clock())
			o.logger.Debug("Current time", logging.String("time", current))
			return fmt.Sprintf("The current time is: %s", current), nil
		})
}
