// Package storetest holds helpers for testing code that talks to the App Store
// and Google Play: throwaway certificate authorities, x5c-signed JWS payloads,
// a controllable clock and httptest fakes for the store endpoints.
package storetest
