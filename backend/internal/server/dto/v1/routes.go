package v1

import "reflect"

// Route describes a single API endpoint for code generation.
type Route struct {
	Name    string       // Function name, e.g. "listWorkspaces"
	Method  string       // "GET", "POST", or "DELETE"
	Path    string       // "/api/v1/workspaces/{id}"
	Req     reflect.Type // Request body type; nil for no body.
	Resp    reflect.Type // Response body type.
	IsArray bool         // response is T[] not T
	IsSSE   bool         // SSE stream, not JSON
}

// ReqName returns the request type name, or "" if Req is nil.
func (r *Route) ReqName() string {
	if r.Req == nil {
		return ""
	}
	return r.Req.Name()
}

// RespName returns the response type name.
func (r *Route) RespName() string {
	return r.Resp.Name()
}

// Routes is the authoritative list of API endpoints, matching spec.md §6's
// external command surface (sendMessage, resumeStream, interruptStream,
// truncateHistory, replaceHistory, executeBash, createWorkspace,
// forkWorkspace, renameWorkspace, deleteWorkspace, listWorkspaces,
// listBranches, subscribeChat, subscribeMetadata) plus setRetryEnabled and
// the getHistory catch-up endpoint engine.Engine.History backs.
var Routes = []Route{
	{Name: "listWorkspaces", Method: "GET", Path: "/api/v1/workspaces", Resp: reflect.TypeFor[Workspace](), IsArray: true},
	{Name: "createWorkspace", Method: "POST", Path: "/api/v1/workspaces", Req: reflect.TypeFor[CreateWorkspaceReq](), Resp: reflect.TypeFor[Workspace]()},
	{Name: "forkWorkspace", Method: "POST", Path: "/api/v1/workspaces/{id}/fork", Req: reflect.TypeFor[ForkWorkspaceReq](), Resp: reflect.TypeFor[Workspace]()},
	{Name: "renameWorkspace", Method: "POST", Path: "/api/v1/workspaces/{id}/rename", Req: reflect.TypeFor[RenameWorkspaceReq](), Resp: reflect.TypeFor[Workspace]()},
	{Name: "deleteWorkspace", Method: "DELETE", Path: "/api/v1/workspaces/{id}", Req: reflect.TypeFor[DeleteWorkspaceReq](), Resp: reflect.TypeFor[StatusResp]()},
	{Name: "listBranches", Method: "GET", Path: "/api/v1/workspaces/{id}/branches", Req: reflect.TypeFor[WorkspaceIDReq](), Resp: reflect.TypeFor[BranchesResp]()},
	{Name: "getHistory", Method: "GET", Path: "/api/v1/workspaces/{id}/history", Req: reflect.TypeFor[WorkspaceIDReq](), Resp: reflect.TypeFor[HistoryResp]()},
	{Name: "sendMessage", Method: "POST", Path: "/api/v1/workspaces/{id}/messages", Req: reflect.TypeFor[SendMessageReq](), Resp: reflect.TypeFor[StatusResp]()},
	{Name: "resumeStream", Method: "POST", Path: "/api/v1/workspaces/{id}/resume", Req: reflect.TypeFor[WorkspaceIDReq](), Resp: reflect.TypeFor[StatusResp]()},
	{Name: "interruptStream", Method: "POST", Path: "/api/v1/workspaces/{id}/interrupt", Req: reflect.TypeFor[InterruptStreamReq](), Resp: reflect.TypeFor[StatusResp]()},
	{Name: "truncateHistory", Method: "POST", Path: "/api/v1/workspaces/{id}/history/truncate", Req: reflect.TypeFor[TruncateHistoryReq](), Resp: reflect.TypeFor[TruncateHistoryResp]()},
	{Name: "replaceHistory", Method: "POST", Path: "/api/v1/workspaces/{id}/history/replace", Req: reflect.TypeFor[ReplaceHistoryReq](), Resp: reflect.TypeFor[StatusResp]()},
	{Name: "setRetryEnabled", Method: "POST", Path: "/api/v1/workspaces/{id}/retry", Req: reflect.TypeFor[SetRetryEnabledReq](), Resp: reflect.TypeFor[StatusResp]()},
	{Name: "executeBash", Method: "POST", Path: "/api/v1/workspaces/{id}/bash", Req: reflect.TypeFor[ExecuteBashReq](), Resp: reflect.TypeFor[ExecuteBashResp]()},
	{Name: "subscribeChat", Method: "GET", Path: "/api/v1/workspaces/{id}/chat/events", Req: reflect.TypeFor[WorkspaceIDReq](), Resp: reflect.TypeFor[StreamEvent](), IsSSE: true},
	{Name: "subscribeMetadata", Method: "GET", Path: "/api/v1/server/workspaces/events", Resp: reflect.TypeFor[MetadataEvent](), IsSSE: true},
}
