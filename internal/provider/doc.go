// Package provider defines the contract with the external bulk analysis
// service. The service is asynchronous: callers upload an input file,
// create a job referencing it, poll the job until it reaches a terminal
// state, and download the output and error files.
//
// The concrete HTTP implementation lives in the openaibatch subpackage.
package provider
