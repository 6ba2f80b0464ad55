// Package trailjson streams filtered trails as one JSON document.
//
// The document shape is
//
//	[ {"<id>": [ {event}, ... ], ...}, ... ]
//
// with one object per store, one key per matched identifier and one object
// per event. Writer tracks the nesting level and emits punctuation as it
// goes, so only the current event is ever held in memory. EventSerializer
// renders a single event: "timestamp" first, then every present field in
// declaration order. Absent fields are omitted rather than written as null.
package trailjson
