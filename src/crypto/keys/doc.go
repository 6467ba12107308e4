// Package keys implements the identity-key cryptography of callrelay.
//
// Every user owns an RSA-2048 key-pair. The public key is published in the
// relay's directory as an spki PEM block so that callers can wrap a call's
// session key for that user. The private key never leaves the device; it is
// stored as a pkcs8 PEM file readable by its owner only.
//
// Wrapping uses RSA-OAEP with SHA-256. Signatures use RSA-PSS with SHA-256.
package keys
