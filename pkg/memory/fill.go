package memory

import (
	"context"
	"fmt"

	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/tools"
)

const keyCity = "city"

// Filler completes get_time arguments the LLM left out
type Filler struct {
	store  Store
	logger logging.Logger
}

// NewFiller returns a Filler reading defaults from store
func NewFiller(store Store, logger logging.Logger) *Filler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Filler{store: store, logger: logger}
}

// FillArgsIfMissing is Filler.Fill without logging
func FillArgsIfMissing(ctx context.Context, store Store, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	return NewFiller(store, nil).Fill(ctx, tool, args)
}

// Fill returns a copy of args for tool with the timezone completed. A known
// city replaces itself with its zone, an invalid zone is replaced by the
// remembered one, and an absent zone is taken from memory. Arguments of other
// tools are returned unchanged.
func (f *Filler) Fill(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	filled := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		filled[k] = v
	}
	if tool != tools.GetTimeName {
		return filled, nil
	}

	if city, ok := filled[keyCity]; ok {
		if _, hasTZ := filled[KeyTimezone]; !hasTZ {
			name := fmt.Sprint(city)
			if tz, known := TimezoneForCity(name); known {
				f.logger.Info("Mapped city to timezone", logging.String("city", name), logging.String("timezone", tz))
				filled[KeyTimezone] = tz
				delete(filled, keyCity)
			} else {
				f.logger.Info("No timezone mapping found for city", logging.String("city", name))
			}
		}
	}

	remembered, haveMemory, err := f.store.Get(ctx, KeyTimezone)
	if err != nil {
		return nil, err
	}

	if tz, ok := filled[KeyTimezone]; ok {
		name, isString := tz.(string)
		if (!isString || !tools.IsValidTimezone(name)) && haveMemory {
			f.logger.Info("Invalid timezone, using default from memory",
				logging.Any("timezone", tz), logging.String("replacement", remembered))
			filled[KeyTimezone] = remembered
		}
	}

	if _, ok := filled[KeyTimezone]; !ok && haveMemory {
		f.logger.Info("Added timezone from memory", logging.String("timezone", remembered))
		filled[KeyTimezone] = remembered
	}

	return filled, nil
}
