// Package bot is the event pipeline between the chat stream and Discord.
//
// The host drives it through three entry points: OnStart once the chat
// transport is up, OnLine for every inbound line (in order), and OnTick from
// the scheduler. Apply swaps the compiled rule set without losing probe or
// prediction state.
package bot
