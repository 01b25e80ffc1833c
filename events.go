package main

import (
	"encoding/json"
	"fmt"

	"ttpcard/crop"
)

// Event is one user gesture sent by the editor. Exactly one field is set.
type Event struct {
	Pan   *PanEvent
	Drag  *DragEvent
	Zoom  *ZoomEvent
	Wheel *WheelEvent
	Reset *ResetEvent
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	switch ev.Type {
	case "pan":
		var pan PanEvent
		if err := json.Unmarshal(data, &pan); err != nil {
			return fmt.Errorf("failed to unmarshal pan event: %w", err)
		}
		e.Pan = &pan
	case "drag":
		var drag DragEvent
		if err := json.Unmarshal(data, &drag); err != nil {
			return fmt.Errorf("failed to unmarshal drag event: %w", err)
		}
		e.Drag = &drag
	case "zoom":
		var zoom ZoomEvent
		if err := json.Unmarshal(data, &zoom); err != nil {
			return fmt.Errorf("failed to unmarshal zoom event: %w", err)
		}
		e.Zoom = &zoom
	case "wheel":
		var wheel WheelEvent
		if err := json.Unmarshal(data, &wheel); err != nil {
			return fmt.Errorf("failed to unmarshal wheel event: %w", err)
		}
		e.Wheel = &wheel
	case "reset":
		e.Reset = &ResetEvent{}
	default:
		return fmt.Errorf("unknown event %q", ev.Type)
	}
	return nil
}

// PanEvent moves the crop window to an absolute offset from center.
type PanEvent struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DragEvent moves the crop window by a pointer delta measured in pixels of
// the displayed source image.
type DragEvent struct {
	DX            float64 `json:"dx"`
	DY            float64 `json:"dy"`
	DisplayWidth  float64 `json:"displayWidth"`
	DisplayHeight float64 `json:"displayHeight"`
}

// ZoomEvent sets the zoom slider value.
type ZoomEvent struct {
	Value float64 `json:"value"`
}

// WheelEvent changes zoom by one slider step per wheel notch.
type WheelEvent struct {
	Notches float64 `json:"notches"`
}

type ResetEvent struct{}

// Apply feeds the event into the session.
func (e Event) Apply(s *crop.Session) {
	switch {
	case e.Pan != nil:
		s.SetPan(crop.Point{X: e.Pan.X, Y: e.Pan.Y})
	case e.Drag != nil:
		s.PanBy(e.Drag.delta())
	case e.Zoom != nil:
		s.SetZoom(e.Zoom.Value)
	case e.Wheel != nil:
		s.ZoomBy(e.Wheel.Notches * crop.ZoomStep)
	case e.Reset != nil:
		s.Reset()
	}
}

// delta converts a pointer movement over the displayed source into a
// normalized pan offset: one display width equals one natural width.
func (d DragEvent) delta() crop.Point {
	var p crop.Point
	if d.DisplayWidth > 0 {
		p.X = d.DX / d.DisplayWidth
	}
	if d.DisplayHeight > 0 {
		p.Y = d.DY / d.DisplayHeight
	}
	return p
}
