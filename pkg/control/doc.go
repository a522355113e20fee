/*
Package control stops and promotes database nodes on behalf of the failover
drill.

The harness treats cluster control as opaque: it calls Stop and Promote and
looks only at the returned error. Two implementations are provided.
CommandControl runs external commands such as "docker stop {node}" or an
operator's promotion script. ContainerdControl talks to containerd directly,
stopping a task with SIGTERM then SIGKILL, and promoting by executing a
command inside the running container.

Wrap either one with Observe to log every call and publish it as an
events.EventControlInvoked event.

Nothing in this package restarts a node. A stopped primary stays stopped.
*/
package control
