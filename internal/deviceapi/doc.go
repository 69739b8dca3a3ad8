// Package deviceapi fetches and validates the device list from the proxy
// provider's connections endpoint.
//
// Fetch never retries; the caller's loop provides the cadence. Errors are
// sentinel or typed values suitable for errors.Is and errors.As.
package deviceapi
