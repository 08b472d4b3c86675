package command

import (
	"fmt"
	"strings"
)

// DescribeTask renders a short spoken confirmation for a task.
func DescribeTask(t Task) string {
	room := HumanRoom(t.Room)
	if room == "" {
		if r, ok := t.Parameters["room"].(string); ok {
			room = HumanRoom(r)
		}
	}
	switch t.Action {
	case "turn_on_lights":
		s := "Turning on the lights"
		if room != "" {
			s += " in the " + room
		}
		if b, ok := t.Parameters["brightness"]; ok {
			s += fmt.Sprintf(" at brightness %v", b)
		}
		return s + "."
	case "turn_off_lights":
		if room != "" {
			return "Turning off the lights in the " + room + "."
		}
		return "Turning off the lights."
	case "play_music":
		if q, ok := t.Parameters["query"].(string); ok && q != "" && q != "music" {
			return "Playing " + q + "."
		}
		return "Playing some music."
	case "pause_music":
		return "Pausing the music."
	case "resume_music":
		return "Resuming the music."
	case "set_volume":
		if v, ok := t.Parameters["volume"]; ok {
			return fmt.Sprintf("Setting the volume to %v.", v)
		}
		return "Adjusting the volume."
	case "set_temperature":
		if v, ok := t.Parameters["temperature"]; ok {
			s := fmt.Sprintf("Setting the temperature to %v degrees", v)
			if room != "" {
				s += " in the " + room
			}
			return s + "."
		}
		return "Adjusting the temperature."
	default:
		return "Running " + strings.ReplaceAll(t.Action, "_", " ") + "."
	}
}

// DescribeTasks joins the confirmations of every task.
func DescribeTasks(tasks []Task) string {
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		parts = append(parts, DescribeTask(t))
	}
	return strings.Join(parts, " ")
}

// HumanRoom turns "living_room" into "living room".
func HumanRoom(room string) string {
	return strings.TrimSpace(strings.ReplaceAll(room, "_", " "))
}
