/* Copyright © 2025-2026 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package internal

const (
	UserAgent        = "cape-smash/0.4.0 (+https://github.com/mbsmash/cape-smash)"
	StartggEndpoint  = "https://api.start.gg/gql/alpha"
	DefaultVideogame = "super smash bros"
	WebCacheBucket   = "mbsmash-cape-smash-webcache"
)
