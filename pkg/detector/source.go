// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package detector

import (
	"context"

	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// LineHandler receives one line of text from a source.
type LineHandler func(kind types.SourceKind, sourceID, line string)

// LostHandler is called once when the underlying source disappears (file
// deleted, pane closed, process exited). The detector removes the source in
// response; the error is informational.
type LostHandler func(err error)

// Source is a stream of text lines the detector can monitor. Implementations
// own their reader goroutine; Start must not block, Stop must release it.
type Source interface {
	// Kind tags the source for attribution.
	Kind() types.SourceKind

	// ID uniquely identifies the source among active sources.
	ID() string

	// Start begins emitting lines to the handler until the context is
	// cancelled or Stop is called. A vanished source calls lost exactly once.
	Start(ctx context.Context, emit LineHandler, lost LostHandler) error

	// Stop releases the reader and any timers or watchers it owns.
	Stop()
}
