// Package extract turns noisy profile-page markup into a normalized follower
// count. It is deterministic and free of I/O: platform detection, shorthand
// number parsing and an ordered cascade of matching strategies per platform.
package extract
