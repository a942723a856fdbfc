/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package internal

import (
	"time"

	"github.com/araddon/dateparse"
)

// ParseDateOrZero returns a parsed time or zero if input is empty or "null".
// Times without a zone are taken as UTC.
func ParseDateOrZero(s string) (time.Time, error) {
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	return dateparse.ParseIn(s, time.UTC)
}

// UnixOrZero converts optional epoch seconds, as returned by start.gg.
func UnixOrZero(sec *int64) time.Time {
	if sec == nil || *sec == 0 {
		return time.Time{}
	}
	return time.Unix(*sec, 0).UTC()
}
