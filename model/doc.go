// Package model defines the array data model shared by every layer.
//
//   - Box: a hyper-rectangle (offset + shape) in a variable's index space.
//     Chunks, write regions, read regions and overlaps are all Boxes.
//   - DType: the fixed-width element kind of a variable.
//   - Value: a tagged attribute value (numeric scalar, numeric array or text).
//
// Buffers exchanged with the middleware are raw element bytes in row-major
// (C) order and little-endian byte order.
package model
