package types

// Payload variants form a closed set over the supported task modes. The core
// treats payloads as opaque; only the executor interprets them.

// HTMLPayload requests the rendered HTML of a page.
type HTMLPayload struct {
	URL          string
	WaitSelector string
}

// Mode implements TaskPayload.
func (p HTMLPayload) Mode() TaskMode { return ModeHTML }

// TargetURL implements TaskPayload.
func (p HTMLPayload) TargetURL() string { return p.URL }

// TextPayload requests the visible text content of a page.
type TextPayload struct {
	URL          string
	WaitSelector string
}

// Mode implements TaskPayload.
func (p TextPayload) Mode() TaskMode { return ModeText }

// TargetURL implements TaskPayload.
func (p TextPayload) TargetURL() string { return p.URL }

// ScreenshotPayload requests a PNG capture of a page.
type ScreenshotPayload struct {
	URL          string
	WaitSelector string
	FullPage     bool
}

// Mode implements TaskPayload.
func (p ScreenshotPayload) Mode() TaskMode { return ModeScreenshot }

// TargetURL implements TaskPayload.
func (p ScreenshotPayload) TargetURL() string { return p.URL }

// ExtractPayload requests structured fields from a page, either through an
// inline CSS selector or a named extraction profile.
type ExtractPayload struct {
	URL          string
	WaitSelector string
	Selector     string
	Attribute    string // Attribute to read; empty means element text
	Profile      string
}

// Mode implements TaskPayload.
func (p ExtractPayload) Mode() TaskMode { return ModeExtract }

// TargetURL implements TaskPayload.
func (p ExtractPayload) TargetURL() string { return p.URL }
