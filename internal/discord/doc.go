// Package discord delivers messages to Discord over its HTTP API.
//
// Two destination shapes are supported behind one Client:
//   - Webhook: POST to the opaque webhook URL, no auth header, optional username.
//   - BotChannel: POST to <api_base>/channels/<id>/messages with "Authorization: Bot <token>".
//
// Each Send is exactly one HTTP attempt. Non-2xx responses surface as
// *DeliveryError carrying the status and (truncated) response body.
package discord
