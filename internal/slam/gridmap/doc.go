// Package gridmap owns the occupancy grid used by the SLAM front end.
//
// Responsibilities: per-cell log-odds evidence, the fixed-size cell
// container, world<->map coordinate conversion, occupied/free marking and
// the bilinear probability field the scan matcher optimises against.
// Key types: LogOddsCell, CellContainer, OccupancyGridMap, Interpolation.
//
// Nothing in this package locks. Callers that mark and match from different
// goroutines must serialise access themselves (see mapping.Session).
// No SQL/database code is allowed in this package.
package gridmap
