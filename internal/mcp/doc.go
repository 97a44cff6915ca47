// Package mcp implements a minimal Model Context Protocol client.
//
// CAAL talks to MCP servers for two reasons: generic tool access
// (tools/list + tools/call bridged into the capability registry) and
// introspection of the n8n workflow catalog, which is exposed as MCP
// tools on the n8n side. Two transports are provided: streamable HTTP
// for remote servers and stdio for local subprocess servers.
//
// Only the subset of the protocol CAAL needs is implemented:
// initialize, notifications/initialized, tools/list, tools/call, ping.
package mcp
