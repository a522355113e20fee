/*
Package scenario holds the steady-state replication scenario run by
"replcheck replicate".

Steps, in order:

 1. write a probe row on the primary and wait for it on the replica
 2. insert a product and wait for it (optional)
 3. update the product price and wait for the new value (optional)
 4. attempt a write on the replica and expect a read-only rejection
 5. wait for every table count to match
 6. insert a batch of rows in one transaction and count them by prefix
 7. measure the replication delay of one more write

A timed out check is recorded and the scenario moves on; an unreachable
endpoint, a divergence or a failed check stops it.
*/
package scenario
