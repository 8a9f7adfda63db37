// Package parser converts between Readings and their wire forms.
//
// The sensor line protocol is one text line per reading:
//
//	id: sensor_1, date: 2024-05-01, time: 10:00:00:123, PTAT: 26.5 [degC], Temperature: 22.0, 23.0, ..., 21.0 [degC]
//
// Encode writes every temperature with one decimal place and terminates the
// line with "\n". LineParser tokenizes over the fixed field markers rather
// than matching a pattern, so every failure names the field that broke. Any
// failure returns a *ParseError, which matches errors.ErrParsingFailed; the
// consumer logs the line and drops it.
//
// JSONParser accepts the same fields as a JSON object for manual submission
// through the status surface.
package parser
