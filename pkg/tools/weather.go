package tools

import (
	"context"
	"fmt"

	"github.com/nowucca/introducing-mcp/pkg/logging"
)

// GetWeatherArgs are the arguments of get_weather
type GetWeatherArgs struct {
	City string `json:"city" jsonschema:"required,minLength=1,description=Name of the city"`
}

// NewGetWeather returns the mock get_weather(city) tool
func NewGetWeather(opts ...Option) *Tool {
	o := buildOptions(opts)
	return MustNew(GetWeatherName, "Get weather information for a city",
		func(ctx context.Context, args GetWeatherArgs) (string, error) {
			o.logger.Info("Tool get_weather called", logging.String("city", args.City))
			return fmt.Sprintf("Sunny in %s", args.City), nil
		})
}
