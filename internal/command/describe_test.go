package command

import "testing"

func TestDescribeTask(t *testing.T) {
	cases := []struct {
		task Task
		want string
	}{
		{Task{Action: "turn_on_lights", Room: "living_room", Parameters: map[string]any{"room": "living_room"}}, "Turning on the lights in the living room."},
		{Task{Action: "turn_on_lights", Room: "kitchen", Parameters: map[string]any{"room": "kitchen", "brightness": 128}}, "Turning on the lights in the kitchen at brightness 128."},
		{Task{Action: "turn_off_lights", Parameters: map[string]any{"room": "bedroom"}}, "Turning off the lights in the bedroom."},
		{Task{Action: "play_music", Parameters: map[string]any{"query": "jazz"}}, "Playing jazz."},
		{Task{Action: "play_music", Parameters: map[string]any{}}, "Playing some music."},
		{Task{Action: "set_volume", Parameters: map[string]any{"volume": 40}}, "Setting the volume to 40."},
		{Task{Action: "set_temperature", Room: "office", Parameters: map[string]any{"temperature": 21}}, "Setting the temperature to 21 degrees in the office."},
		{Task{Action: "open_blinds"}, "Running open blinds."},
	}
	for _, tc := range cases {
		if got := DescribeTask(tc.task); got != tc.want {
			t.Fatalf("DescribeTask(%s) = %q, want %q", tc.task.Action, got, tc.want)
		}
	}
}
