// Package mqtt mirrors the operational event bus onto an MQTT broker.
//
// Every bus event is published as JSON to <prefix>/events/<kind>. A
// retained daily usage summary (questions answered, reasoner tokens)
// is kept at <prefix>/usage, and <prefix>/availability carries
// "online" while connected. A will message flips availability to
// "offline" on unexpected disconnects.
//
// Connection management uses Eclipse Paho v2's [autopaho] package,
// which reconnects automatically; the birth message is republished on
// every (re-)connect.
package mqtt
