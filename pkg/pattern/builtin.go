// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pattern

import "regexp"

// Builtin returns the default detection pattern set, ordered from most to
// least specific. The ordering matters: the first matching pattern wins, so
// the generic token-count pattern sits last and the estimation fallback is
// not registered by default.
func Builtin() []*Pattern {
	return []*Pattern{
		{
			Name: "anthropic-usage",
			Gates: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(anthropic|claude)\b`),
			},
			Tokens: TokenExtractors{
				Total:  regexp.MustCompile(`(?i)\btokens?:\s*([0-9,]+)`),
				Input:  regexp.MustCompile(`(?i)\binput(?:_tokens)?:\s*([0-9,]+)`),
				Output: regexp.MustCompile(`(?i)\boutput(?:_tokens)?:\s*([0-9,]+)`),
				Cost:   regexp.MustCompile(`(?i)\bcost:\s*\$?([0-9.]+)`),
			},
			Metadata: MetaExtractors{
				Model:    regexp.MustCompile(`(?i)\bmodel:\s*([\w.-]+)`),
				Agent:    regexp.MustCompile(`(?i)\bagent:\s*([\w.-]+)`),
				Provider: regexp.MustCompile(`(?i)\b(anthropic|claude)\b`),
			},
			Confidence: 0.95,
		},
		{
			Name: "openai-usage",
			Gates: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(openai|gpt-[0-9])\b`),
			},
			Tokens: TokenExtractors{
				Total:  regexp.MustCompile(`(?i)\btotal_tokens["':\s]+([0-9,]+)`),
				Input:  regexp.MustCompile(`(?i)\bprompt_tokens["':\s]+([0-9,]+)`),
				Output: regexp.MustCompile(`(?i)\bcompletion_tokens["':\s]+([0-9,]+)`),
			},
			Metadata: MetaExtractors{
				Model:    regexp.MustCompile(`(?i)\bmodel["':\s]+([\w.-]+)`),
				Provider: regexp.MustCompile(`(?i)\b(openai)\b`),
			},
			Confidence: 0.9,
		},
		{
			Name: "gemini-usage",
			Gates: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(gemini|google ai)\b`),
			},
			Tokens: TokenExtractors{
				Total:  regexp.MustCompile(`(?i)\btotal[_ ]?tokens?["':\s]+([0-9,]+)`),
				Input:  regexp.MustCompile(`(?i)\bprompt[_ ]?tokens?["':\s]+([0-9,]+)`),
				Output: regexp.MustCompile(`(?i)\bcandidates[_ ]?tokens?["':\s]+([0-9,]+)`),
			},
			Metadata: MetaExtractors{
				Model:    regexp.MustCompile(`(?i)\bmodel["':\s]+([\w.-]+)`),
				Provider: regexp.MustCompile(`(?i)\b(gemini)\b`),
			},
			Confidence: 0.9,
		},
		{
			Name: "generic-token-count",
			Gates: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\btokens?\b`),
			},
			Tokens: TokenExtractors{
				Total:  regexp.MustCompile(`(?i)\b([0-9,]+)\s*tokens?\b`),
				Input:  regexp.MustCompile(`(?i)\binput:\s*([0-9,]+)`),
				Output: regexp.MustCompile(`(?i)\boutput:\s*([0-9,]+)`),
			},
			Metadata: MetaExtractors{
				Model: regexp.MustCompile(`(?i)\bmodel:\s*([\w.-]+)`),
			},
			Confidence: 0.5,
		},
	}
}
