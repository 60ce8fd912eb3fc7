package domain

// KeyPrefix namespaces every key this service writes to a shared KV backend.
const KeyPrefix = "geodex:"
