// Package layout decides chunk shapes and moves bytes between boxes.
//
// Planner.Plan is a pure function of (shape, unlimited flags, element
// size, hint, band): identical inputs always produce the identical chunk
// shape. A Grid tiles the index space with that shape; Decompose cuts a
// write region into cell∩region boxes so an append past the covered
// extent always lands in new chunk boxes. Copy and Fill move row-major
// hyperslabs, fusing contiguous trailing dimensions into single copies.
package layout
