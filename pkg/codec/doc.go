// Package codec provides room serialization and deserialization for roomdb.
//
// # Record Format
//
// Rooms are serialized as a small versioned frame:
//
//	[Version(1)][Checksum(4)][Body]
//
// Fields:
//   - Version: schema version of the body; selects the body codec on decode
//   - Checksum: farmhash Fingerprint32 of the body (little-endian)
//   - Body: the fields of the room as laid out by that schema version
//
// Version 1 bodies are fixed width (33 bytes, little-endian):
//
//	[ID(8)][Floor(4)][RoomNumber(4)][IsAvailable(1)][CheckInDate(8)][CheckOutDate(8)]
//
// # Size Bound
//
// MaxRecordSize (1024 bytes) is the fixed size of a durable record slot. Each
// registered schema version is checked against it when the package is
// initialized, so a schema that could outgrow its slot fails at startup rather
// than on some later write. Adding a field means adding a new version and its
// body codec; old versions stay decodable.
//
// # Error Handling
//
// Decode returns an error wrapping ErrCorruptRecord for truncated frames,
// unknown versions, body length mismatches, checksum failures and invalid
// boolean bytes. Encode does not fail.
//
// # Scalars
//
// Uint64Codec is the trivial codec used for the identifier counter. Both it
// and RoomCodec implement ValueCodec, which is what the durable cell and map
// in pkg/stable are parameterized over.
package codec
