package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
)

// 2024-03-10 15:04:05 UTC
var fixed = time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)

func fixedClock() time.Time { return fixed }

func TestGetTime(t *testing.T) {
	tool := NewGetTime(WithClock(fixedClock))
	ctx := context.Background()

	text, err := tool.Call(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "The current time in UTC is: 15:04:05 UTC", text)

	text, err = tool.Call(ctx, map[string]interface{}{"timezone": "Asia/Tokyo"})
	require.NoError(t, err)
	assert.Equal(t, "The current time in Asia/Tokyo is: 00:04:05 JST", text)

	text, err = tool.Call(ctx, map[string]interface{}{"timezone": "America/New_York"})
	require.NoError(t, err)
	assert.Equal(t, "The current time in America/New_York is: 11:04:05 EDT", text)
}

func TestGetTimeInvalidTimezone(t *testing.T) {
	tool := NewGetTime(WithClock(fixedClock))

	_, err := tool.Call(context.Background(), map[string]interface{}{"timezone": "Mars/Olympus_Mons"})
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
	assert.Equal(t, "Invalid timezone: Mars/Olympus_Mons", err.Error())
}

func TestGetTimeIgnoresUnknownArguments(t *testing.T) {
	tool := NewGetTime(WithClock(fixedClock))

	text, err := tool.Call(context.Background(), map[string]interface{}{"city": "Gotham"})
	require.NoError(t, err)
	assert.Equal(t, "The current time in UTC is: 15:04:05 UTC", text)
}

func TestGetTimeRejectsWrongType(t *testing.T) {
	tool := NewGetTime()

	_, err := tool.Call(context.Background(), map[string]interface{}{"timezone": 5})
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryValidation))
}

func TestGetTimeRejectsPaddedAndEmptyTimezones(t *testing.T) {
	tool := NewGetTime(WithClock(fixedClock))
	ctx := context.Background()

	for _, tz := range []string{" Asia/Tokyo", "Asia/Tokyo\n", "", "Local"} {
		_, err := tool.Call(ctx, map[string]interface{}{"timezone": tz})
		require.Error(t, err, "%q", tz)
		assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams), "%q", tz)
		assert.Equal(t, "Invalid timezone: "+tz, err.Error())
	}
}

func TestIsValidTimezone(t *testing.T) {
	assert.True(t, IsValidTimezone("UTC"))
	assert.True(t, IsValidTimezone("Europe/Paris"))
	assert.False(t, IsValidTimezone(""))
	assert.False(t, IsValidTimezone("Local"))
	assert.False(t, IsValidTimezone("Nowhere/Special"))
	assert.False(t, IsValidTimezone(" Asia/Tokyo"))
}

func TestGetFormattedTime(t *testing.T) {
	ctx := context.Background()

	advertise := NewGetFormattedTime(DefaultDateTimeFormat, WithClock(fixedClock))
	text, err := advertise.Call(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "The current time is: 2024-03-10 15:04:05", text)
	assert.Equal(t, "Returns the current time", advertise.Definition().Description)

	clock := NewGetFormattedTime(DefaultClockFormat, WithClock(fixedClock))
	text, err = clock.Call(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "The current time is: 15:04:05", text)

	text, err = clock.Call(ctx, map[string]interface{}{"format": "%I:%M %p on %a %b %d, %y"})
	require.NoError(t, err)
	assert.Equal(t, "The current time is: 03:04 PM on Sun Mar 10, 24", text)
}

func TestGetWeather(t *testing.T) {
	tool := NewGetWeather()
	ctx := context.Background()

	text, err := tool.Call(ctx, map[string]interface{}{"city": "Tokyo"})
	require.NoError(t, err)
	assert.Equal(t, "Sunny in Tokyo", text)

	for _, args := range []map[string]interface{}{{}, {"city": ""}} {
		_, err = tool.Call(ctx, args)
		require.Error(t, err, "%v", args)
		assert.Equal(t, "Missing required parameter: city", err.Error())
		assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
	}
}

func TestGetError(t *testing.T) {
	tool := NewGetError()
	ctx := context.Background()

	_, err := tool.Call(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, "Intentional error triggered: Default error message", err.Error())
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeToolExecution))

	_, err = tool.Call(ctx, map[string]interface{}{"message": "This is a custom error message"})
	require.Error(t, err)
	assert.Equal(t, "Intentional error triggered: This is a custom error message", err.Error())
}

func TestToolDefinitionSchemas(t *testing.T) {
	var weather map[string]interface{}
	require.NoError(t, json.Unmarshal(NewGetWeather().Definition().InputSchema, &weather))
	assert.Equal(t, "object", weather["type"])
	assert.Equal(t, []interface{}{"city"}, weather["required"])
	city := weather["properties"].(map[string]interface{})["city"].(map[string]interface{})
	assert.Equal(t, float64(1), city["minLength"])

	var timeSchema map[string]interface{}
	require.NoError(t, json.Unmarshal(NewGetTime().Definition().InputSchema, &timeSchema))
	props := timeSchema["properties"].(map[string]interface{})
	tz := props["timezone"].(map[string]interface{})
	assert.Equal(t, "UTC", tz["default"])
	assert.NotContains(t, timeSchema, "required")
}

func TestPlainHandlerErrorsBecomeToolErrors(t *testing.T) {
	tool := MustNew("flaky", "fails plainly", func(ctx context.Context, args struct{}) (string, error) {
		return "", errors.New("disk on fire")
	})

	_, err := tool.Call(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeToolExecution))
	assert.Equal(t, "disk on fire", err.Error())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewGetTime(), NewGetWeather())
	require.Error(t, r.Register(NewGetTime()), "duplicate names are rejected")
	assert.Equal(t, 2, r.Len())

	defs, err := r.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, GetTimeName, defs[0].Name)
	assert.Equal(t, GetWeatherName, defs[1].Name)

	text, err := r.CallTool(context.Background(), GetWeatherName, map[string]interface{}{"city": "Paris"})
	require.NoError(t, err)
	assert.Equal(t, "Sunny in Paris", text)

	_, err = r.CallTool(context.Background(), "non_existent_tool", nil)
	require.Error(t, err)
	assert.Equal(t, "Tool not found: non_existent_tool", err.Error())
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeMethodNotFound))
}
