// Package testutil provides test doubles shared by package tests.
//
// FakeEngine implements engine.Engine with scripted failures and a call log,
// so session tests can check exactly which engine operations ran.
// RecordingDispatcher captures events handed to a dispatcher.
package testutil
