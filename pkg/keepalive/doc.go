// Package keepalive polls the camera state while a Wi-Fi session is ready.
//
// A Poller runs a PollFunc every Interval. Successful polls go to OnState;
// failures go to OnMiss, and MaxMissed consecutive failures run OnLost
// once and stop the poller. The caller restarts it on the next Ready.
package keepalive
