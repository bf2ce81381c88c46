// Package redis stores the checkbox bit-vector in a single Redis string and
// reads and writes it with GET and SETBIT. Redis bitmaps use the same
// MSB-first layout as package bitmap, so the raw value decodes directly.
package redis
