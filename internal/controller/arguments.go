package controller

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Argument resolution merges four layers in fixed precedence: domain
// defaults < event-level overrides < tag-level settings (walked in the
// event's tag order) < output-entry values. Later layers overwrite
// identical keys only; lists are replaced, never merged element-wise.

// mediaIgnoreKeys are excluded from the media grouping key: entries
// differing only in these still share one grouped action.
var mediaIgnoreKeys = map[string]bool{
	"entities": true,
	"volume":   true,
	"priority": true,
}

// deviceServiceKeys are entry keys forwarded verbatim as service
// arguments on device turn_on calls.
var deviceServiceKeys = []string{
	"brightness",
	"color_temp",
	"rgb_color",
	"xy_color",
	"hs_color",
	"color_name",
	"effect",
	"transition",
	"flash",
}

// resolveArgs merges the argument layers for one output entry.
func (r *Rules) resolveArgs(ev *Event, d Domain, entry map[string]any) map[string]any {
	merged := make(map[string]any)
	copyInto(merged, r.Defaults[d])
	copyInto(merged, ev.Args[d])
	for _, tag := range ev.Tags {
		if settings, ok := r.Tags[tag]; ok {
			copyInto(merged, settings.args(d))
		}
	}
	copyInto(merged, entry)
	return merged
}

// resolveControl derives an event's queue settings from its matched
// outputs. Priority is the highest resolved priority across every
// entry the outputs would run; force is true when any layer (event,
// tag, or entry) requests it. An output whose entries carry a high
// priority queues high even when the event itself says nothing.
func (r *Rules) resolveControl(ev *Event, outputs []*Output) (priority int, force bool) {
	if ev.Priority != nil {
		priority = *ev.Priority
	}
	if ev.Force != nil {
		force = *ev.Force
	}
	for _, tag := range ev.Tags {
		settings, ok := r.Tags[tag]
		if !ok {
			continue
		}
		if settings.Priority != nil && *settings.Priority > priority {
			priority = *settings.Priority
		}
		if settings.Force != nil && *settings.Force {
			force = true
		}
	}
	for _, output := range outputs {
		for _, d := range domainOrder {
			for _, entry := range output.Entries(d) {
				resolved := r.resolveArgs(ev, d, entry)
				if p := getInt(resolved, "priority"); p > priority {
					priority = p
				}
				if getBool(resolved, "force") {
					force = true
				}
			}
		}
	}
	return priority, force
}

func copyInto(dst map[string]any, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// groupKey builds the media grouping key: the resolved entry arguments
// minus the ignore set, rendered deterministically. Entries with equal
// keys become members of one grouped action.
func groupKey(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		if mediaIgnoreKeys[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, args[k])
	}
	return b.String()
}

// MediaArgs are the typed resolved arguments for one media entry.
type MediaArgs struct {
	Entities    []string
	Kind        string // "speak" or "play"
	Message     string
	Chime       string
	ChimeLength time.Duration
	Length      time.Duration
	Volume      float64
	Priority    int
	PlayFirst   bool
	TTSService  string
	Media       string
	MediaType   string
}

func mediaArgsFrom(args map[string]any) MediaArgs {
	kind := getString(args, "kind")
	if kind == "" {
		kind = "speak"
	}
	tts := getString(args, "tts_service")
	if tts == "" {
		tts = "tts/google_translate_say"
	}
	return MediaArgs{
		Entities:    getStringList(args, "entities"),
		Kind:        kind,
		Message:     getString(args, "message"),
		Chime:       getString(args, "chime"),
		ChimeLength: getSeconds(args, "chime_length"),
		Length:      getSeconds(args, "length"),
		Volume:      getFloat(args, "volume"),
		Priority:    getInt(args, "priority"),
		PlayFirst:   getBool(args, "play_first"),
		TTSService:  tts,
		Media:       getString(args, "media"),
		MediaType:   getString(args, "media_type"),
	}
}

// DeviceArgs are the typed resolved arguments for one device entry.
type DeviceArgs struct {
	Entities     []string
	Command      string
	Finish       string
	Length       time.Duration
	BreathLength time.Duration
	Priority     int
	Service      map[string]any
}

func deviceArgsFrom(args map[string]any) DeviceArgs {
	cmd := getString(args, "command")
	if cmd == "" {
		cmd = "turn_on"
	}
	svc := make(map[string]any)
	for _, key := range deviceServiceKeys {
		if v, ok := args[key]; ok {
			svc[key] = v
		}
	}
	return DeviceArgs{
		Entities:     getStringList(args, "entities"),
		Command:      cmd,
		Finish:       getString(args, "finish"),
		Length:       getSeconds(args, "length"),
		BreathLength: getSeconds(args, "breath_length"),
		Priority:     getInt(args, "priority"),
		Service:      svc,
	}
}

// NotifyArgs are the typed resolved arguments for one notify entry.
type NotifyArgs struct {
	Service  string
	Message  string
	Title    string
	Data     map[string]any
	Priority int
}

func notifyArgsFrom(args map[string]any) NotifyArgs {
	var data map[string]any
	if raw, ok := args["data"].(map[string]any); ok {
		data = raw
	}
	return NotifyArgs{
		Service:  getString(args, "service"),
		Message:  getString(args, "message"),
		Title:    getString(args, "title"),
		Data:     data,
		Priority: getInt(args, "priority"),
	}
}

// PublishArgs are the typed resolved arguments for one publish entry.
type PublishArgs struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
	Priority int
}

func publishArgsFrom(args map[string]any) PublishArgs {
	qos := getInt(args, "qos")
	if qos < 0 || qos > 2 {
		qos = 0
	}
	return PublishArgs{
		Topic:    getString(args, "topic"),
		Payload:  getString(args, "payload"),
		QoS:      byte(qos),
		Retained: getBool(args, "retained"),
		Priority: getInt(args, "priority"),
	}
}

// Coercion helpers. Values arrive from YAML rules and JSON events, so
// numbers may be int, int64 or float64 and lists may be []any or
// []string.

func getString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func getBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func getInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func getFloat(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// getSeconds reads a numeric duration expressed in seconds.
func getSeconds(args map[string]any, key string) time.Duration {
	return time.Duration(getFloat(args, key) * float64(time.Second))
}

func getStringList(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
