/*
Package admission implements the AdmissionController described in the
Foreman design: a gate on a cluster-coordinated semaphore that bounds how
many expensive queries may run concurrently.

Total plan cost selects between the "query.small" and "query.large" named
semaphores by a configured threshold. Queuing can be disabled entirely, in
which case Admit is a no-op and no lease is ever acquired or released.
*/
package admission
