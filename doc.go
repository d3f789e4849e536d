// # Voice Room
//
// Package voiceroom drives one live, two-way voice conversation with an
// automated agent. A Machine owns the session lifecycle (authorization,
// media connection, agent turn-taking) and a Conversation turns the
// provider's streamed transcription into the ordered transcript the user
// watches. Grants come from the grant package, either in-process or through
// the token endpoint served by package server.
package voiceroom
