// Package hash provides the checksum used for fragment and log integrity.
//
// Every fragment stored on a backend and every catalog log record carries a
// CRC32-Castagnoli checksum. Go's crc32 package uses the SSE4.2 and ARM CRC
// instructions when they are available, so checksumming a 64 MiB chunk costs
// a few milliseconds.
//
//	sum := hash.CRC32C(chunk)
//
// For streamed content:
//
//	h := hash.NewCRC32C()
//	h.Write(header)
//	h.Write(payload)
//	sum := h.Sum32()
package hash
