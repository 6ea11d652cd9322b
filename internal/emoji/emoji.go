// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package emoji normalises the platform-reported reaction names used
// throughout the reaction grammar, since Slack and Mattermost spell the
// same emoji differently.
package emoji

// Class is a normalised bucket of equivalent emoji names.
type Class string

const (
	ClassApproval  Class = "approval"
	ClassDeny      Class = "deny"
	ClassAllowAll  Class = "allow-all"
	ClassCancel    Class = "cancel"
	ClassInterrupt Class = "interrupt"
	ClassResume    Class = "resume"
	ClassToggle    Class = "toggle"
	ClassBugReport Class = "bug-report"
	ClassNumber1   Class = "number-1"
	ClassNumber2   Class = "number-2"
	ClassNumber3   Class = "number-3"
	ClassNumber4   Class = "number-4"
)

var classByName = map[string]Class{
	"+1": ClassApproval, "thumbsup": ClassApproval,
	"-1": ClassDeny, "thumbsdown": ClassDeny,
	"white_check_mark": ClassAllowAll, "heavy_check_mark": ClassAllowAll,
	"x": ClassCancel, "stop": ClassCancel, "octagonal_sign": ClassCancel, "stop_sign": ClassCancel,
	"pause": ClassInterrupt, "pause_button": ClassInterrupt, "double_vertical_bar": ClassInterrupt,
	"arrows_counterclockwise": ClassResume, "arrow_forward": ClassResume, "repeat": ClassResume,
	"small_red_triangle_down": ClassToggle, "arrow_down_small": ClassToggle,
	"bug": ClassBugReport, "🐛": ClassBugReport,
	"one": ClassNumber1, "two": ClassNumber2, "three": ClassNumber3, "four": ClassNumber4,
	"1️⃣": ClassNumber1, "2️⃣": ClassNumber2, "3️⃣": ClassNumber3, "4️⃣": ClassNumber4,
}

// numberGlyphs maps a 1-based option index to the keycap emoji used when
// seeding reactions on a numbered prompt (max 4 options).
var numberGlyphs = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣"}

// Classify normalises a raw reaction name into its Class, if recognised.
func Classify(name string) (Class, bool) {
	c, ok := classByName[name]
	return c, ok
}

// NumberGlyph returns the keycap emoji for a 1-based option index, or ""
// if index is out of the supported 1-4 range.
func NumberGlyph(index int) string {
	if index < 1 || index > len(numberGlyphs) {
		return ""
	}
	return numberGlyphs[index-1]
}

// NumberIndex returns the 1-based option index for a recognised number
// class, or 0 if cls is not a number class.
func NumberIndex(cls Class) int {
	switch cls {
	case ClassNumber1:
		return 1
	case ClassNumber2:
		return 2
	case ClassNumber3:
		return 3
	case ClassNumber4:
		return 4
	}
	return 0
}
