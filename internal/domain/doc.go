// Package domain holds the checkbox snapshot type, the CheckboxStore contract
// implemented by the adapters, and the error sentinels shared by the live
// subsystem. Contracts only; no implementation code.
package domain
