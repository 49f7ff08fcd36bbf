// Package embeddings turns text into fixed-dimension vectors.
//
// Service talks to the external embedding microservice
// (POST /embed {texts} -> {embeddings}). Client sits in front of any
// Backend, normalizes and length-caps input, checks a TTL cache keyed by a
// hash of the normalized text, and rejects vectors whose length differs
// from the configured dimension. Client never retries; callers decide.
package embeddings
