/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package test_utils

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencadc/govos/node"
)

const (
	fakeAuthority = "cadc.nrc.ca"
	fakeDate      = "2025-03-04T05:06:07.890"
	zeroMD5       = "d41d8cd98f00b204e9800998ecf8427e"
	uwsNamespace  = "http://www.ivoa.net/xml/UWS/v1.0"
	xlinkNS       = "http://www.w3.org/1999/xlink"
	vosNamespace  = "http://www.ivoa.net/xml/VOSpace/v2.0"
	transferDoc   = "/results/transferDetails"
)

type (
	// FakeVOSpace is an in-memory VOSpace service with its own registry.
	// Nodes are keyed by path ("/dir/file"); the root container always
	// exists.  The service named "vault" is database-backed and redirects
	// files requests; any other name serves bytes from the files endpoint.
	FakeVOSpace struct {
		Server  *httptest.Server
		Service string

		mu       sync.Mutex
		nodes    map[string]*node.Node
		data     map[string][]byte
		jobs     map[string]*fakeJob
		syncs    map[string]string
		nextID   int
		requests []Request
		faults   []*fault
		corrupt  map[string]int
	}

	// Request records one request the fake served.
	Request struct {
		Method string
		Path   string
		Query  string
		Header http.Header
		Body   []byte
	}

	fakeJob struct {
		run     func() (success, errs int, err error)
		phase   string
		success int
		errs    int
		message string
	}

	fault struct {
		method string
		prefix string
		status int
		count  int
	}

	xmlTransferIn struct {
		Target    string `xml:"target"`
		Direction string `xml:"direction"`
	}
)

// NewFakeVOSpace starts a fake for the service name ("vault", "arc", ...).
func NewFakeVOSpace(t *testing.T, service string) *FakeVOSpace {
	f := &FakeVOSpace{
		Service: service,
		nodes:   map[string]*node.Node{},
		data:    map[string][]byte{},
		jobs:    map[string]*fakeJob{},
		syncs:   map[string]string{},
		corrupt: map[string]int{},
	}
	root, err := node.New(f.URI("/"), node.ContainerNode, nil)
	if err != nil {
		t.Fatalf("failed to create root node: %v", err)
	}
	f.nodes["/"] = root
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// RegistryURL is the value for Client.RegistryURL.
func (f *FakeVOSpace) RegistryURL() string {
	return f.Server.URL + "/reg"
}

func (f *FakeVOSpace) ResourceID() string {
	return "ivo://" + fakeAuthority + "/" + f.Service
}

// URI returns the node URI of a path on the fake service.
func (f *FakeVOSpace) URI(nodePath string) string {
	return "vos://" + fakeAuthority + "!" + f.Service + "/" + strings.TrimPrefix(path.Clean("/"+nodePath), "/")
}

func (f *FakeVOSpace) base() string {
	return f.Server.URL + "/" + f.Service
}

// AddContainer creates a container, and any missing parents.
func (f *FakeVOSpace) AddContainer(nodePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addContainerLocked(path.Clean("/" + nodePath))
}

func (f *FakeVOSpace) addContainerLocked(nodePath string) {
	if _, ok := f.nodes[nodePath]; ok {
		return
	}
	f.addContainerLocked(path.Dir(nodePath))
	n, _ := node.New(f.URI(nodePath), node.ContainerNode, map[string]*string{
		node.PropDate: node.Str(fakeDate),
	})
	f.nodes[nodePath] = n
}

// AddData creates or replaces a data node holding content.
func (f *FakeVOSpace) AddData(nodePath string, content []byte, props map[string]*string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nodePath = path.Clean("/" + nodePath)
	f.addContainerLocked(path.Dir(nodePath))
	n, _ := node.New(f.URI(nodePath), node.DataNode, props)
	f.nodes[nodePath] = n
	f.storeLocked(nodePath, content)
}

// AddLink creates a link node pointing at target.
func (f *FakeVOSpace) AddLink(nodePath, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nodePath = path.Clean("/" + nodePath)
	f.addContainerLocked(path.Dir(nodePath))
	n, _ := node.NewLink(f.URI(nodePath), target, map[string]*string{node.PropDate: node.Str(fakeDate)})
	f.nodes[nodePath] = n
}

func (f *FakeVOSpace) storeLocked(nodePath string, content []byte) {
	sum := md5.Sum(content)
	f.data[nodePath] = append([]byte(nil), content...)
	n := f.nodes[nodePath]
	n.SetProperty(node.PropLength, node.Str(strconv.Itoa(len(content))))
	n.SetProperty(node.PropMD5, node.Str(hex.EncodeToString(sum[:])))
	n.SetProperty(node.PropDate, node.Str(fakeDate))
}

// Node returns a copy of the stored node, or nil.
func (f *FakeVOSpace) Node(nodePath string) *node.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[path.Clean("/"+nodePath)]; ok {
		return n.Clone()
	}
	return nil
}

// Data returns the stored bytes of a data node.
func (f *FakeVOSpace) Data(nodePath string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.data[path.Clean("/"+nodePath)]
	return content, ok
}

// Fail makes the next count requests whose method matches (empty for any)
// and whose path starts with prefix fail with status.
func (f *FakeVOSpace) Fail(method, prefix string, status, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault{method: method, prefix: prefix, status: status, count: count})
}

// Count returns how many requests with method (empty for any) hit a path
// starting with prefix.
func (f *FakeVOSpace) Count(method, prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, req := range f.requests {
		if (method == "" || req.Method == method) && strings.HasPrefix(req.Path, prefix) {
			count++
		}
	}
	return count
}

// Requests returns a copy of everything served so far.
func (f *FakeVOSpace) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// Corrupt makes the next count downloads of a data node serve damaged
// bytes under the checksum of the stored ones.
func (f *FakeVOSpace) Corrupt(nodePath string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrupt[path.Clean("/"+nodePath)] = count
}

func (f *FakeVOSpace) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))
	f.mu.Lock()
	f.requests = append(f.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone(), Body: body})
	for _, flt := range f.faults {
		if flt.count > 0 && (flt.method == "" || flt.method == r.Method) && strings.HasPrefix(r.URL.Path, flt.prefix) {
			flt.count--
			f.mu.Unlock()
			_, _ = io.Copy(io.Discard, r.Body)
			http.Error(w, "<html><body>injected failure</body></html>", flt.status)
			return
		}
	}
	f.mu.Unlock()

	prefix := "/" + f.Service
	route := strings.TrimPrefix(r.URL.Path, prefix)
	switch {
	case r.URL.Path == "/reg/resource-caps":
		fmt.Fprintf(w, "# fake registry\n%s = %s/caps\n", f.ResourceID(), f.Server.URL)
	case r.URL.Path == "/caps":
		f.serveCaps(w)
	case !strings.HasPrefix(r.URL.Path, prefix+"/"):
		http.NotFound(w, r)
	case hasRoute(route, "/nodes"):
		f.serveNodes(w, r, nodePath(route, "/nodes"))
	case hasRoute(route, "/files"):
		f.serveFiles(w, r, nodePath(route, "/files"))
	case hasRoute(route, "/data"):
		f.serveData(w, r, nodePath(route, "/data"))
	case hasRoute(route, "/xfer"):
		f.serveData(w, r, nodePath(route, "/xfer"))
	case hasRoute(route, "/synctrans"):
		f.serveSync(w, r, strings.TrimPrefix(route, "/synctrans"))
	case route == "/async" && r.Method == http.MethodPost:
		f.createMove(w, r)
	case route == "/recursive-delete" && r.Method == http.MethodPost:
		f.createRecursiveDelete(w, r)
	case route == "/recursive-props" && r.Method == http.MethodPost:
		f.createRecursiveProps(w, r)
	case hasRoute(route, "/jobs"):
		f.serveJob(w, r, strings.Trim(strings.TrimPrefix(route, "/jobs"), "/"))
	default:
		http.NotFound(w, r)
	}
}

func hasRoute(route, name string) bool {
	return route == name || strings.HasPrefix(route, name+"/")
}

func nodePath(route, name string) string {
	return path.Clean("/" + strings.TrimPrefix(route, name))
}

func (f *FakeVOSpace) serveCaps(w http.ResponseWriter) {
	caps := map[string]string{
		"ivo://ivoa.net/std/VOSpace/v2.0#nodes":                 "/nodes",
		"ivo://ivoa.net/std/VOSpace#files-proto":                "/files",
		"ivo://ivoa.net/std/VOSpace#sync-2.1":                   "/synctrans",
		"ivo://ivoa.net/std/VOSpace/v2.0#transfers":             "/async",
		"ivo://ivoa.net/std/VOSpace#recursive-delete-proto":     "/recursive-delete",
		"ivo://ivoa.net/std/VOSpace#recursive-nodeprops-proto": "/recursive-props",
	}
	ids := make([]string, 0, len(caps))
	for id := range caps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<vosi:capabilities xmlns:vosi="http://www.ivoa.net/xml/VOSICapabilities/v1.0" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:vs="http://www.ivoa.net/xml/VODataService/v1.1">` + "\n")
	for _, id := range ids {
		fmt.Fprintf(&buf, `  <capability standardID="%s"><interface xsi:type="vs:ParamHTTP" role="std"><accessURL use="base">%s%s</accessURL></interface></capability>`+"\n",
			id, f.base(), caps[id])
	}
	buf.WriteString("</vosi:capabilities>\n")
	_, _ = w.Write(buf.Bytes())
}

func writeNode(w http.ResponseWriter, status int, n *node.Node) {
	body, err := node.Encode(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// childrenLocked lists the direct children of a container in name order,
// or by length/date when asked.
func (f *FakeVOSpace) childrenLocked(parent string, sortBy, order string) []*node.Node {
	var children []*node.Node
	for key, n := range f.nodes {
		if key != "/" && path.Dir(key) == parent {
			children = append(children, n.Clone())
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		a, b := children[i], children[j]
		switch node.CanonicalName(sortBy) {
		case node.PropLength:
			if a.Length() != b.Length() {
				return a.Length() < b.Length()
			}
		case node.PropDate:
			if a.PropertyValue(node.PropDate) != b.PropertyValue(node.PropDate) {
				return a.PropertyValue(node.PropDate) < b.PropertyValue(node.PropDate)
			}
		}
		return a.URI < b.URI
	})
	if order == "desc" {
		for i, j := 0, len(children)-1; i < j; i, j = i+1, j-1 {
			children[i], children[j] = children[j], children[i]
		}
	}
	return children
}

func (f *FakeVOSpace) serveNodes(w http.ResponseWriter, r *http.Request, nodePath string) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, exists := f.nodes[nodePath]
	switch r.Method {
	case http.MethodGet:
		if !exists {
			http.Error(w, "NodeNotFound: "+nodePath, http.StatusNotFound)
			return
		}
		out := existing.Clone()
		if out.Type == node.ContainerNode {
			query := r.URL.Query()
			children := f.childrenLocked(nodePath, query.Get("sort"), query.Get("order"))
			start := 0
			if cursor := query.Get("uri"); cursor != "" {
				for idx, child := range children {
					if child.URI == cursor {
						start = idx
						break
					}
				}
			}
			end := len(children)
			if limit := query.Get("limit"); limit != "" {
				if parsed, err := strconv.Atoi(limit); err == nil && start+parsed < end {
					end = start + parsed
				}
			}
			out.SetChildren(children[start:end])
		}
		writeNode(w, http.StatusOK, out)
	case http.MethodPut:
		if exists {
			http.Error(w, "DuplicateNode: "+nodePath, http.StatusConflict)
			return
		}
		parent, ok := f.nodes[path.Dir(nodePath)]
		if !ok || parent.Type != node.ContainerNode {
			http.Error(w, "ContainerNotFound: "+path.Dir(nodePath), http.StatusNotFound)
			return
		}
		created, err := node.Decode(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		created.URI = f.URI(nodePath)
		created.SetChildren(nil)
		created.SetProperty(node.PropDate, node.Str(fakeDate))
		f.nodes[nodePath] = created
		if created.Type == node.DataNode {
			f.storeLocked(nodePath, nil)
		}
		writeNode(w, http.StatusCreated, created)
	case http.MethodPost:
		if !exists {
			http.Error(w, "NodeNotFound: "+nodePath, http.StatusNotFound)
			return
		}
		update, err := node.Decode(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		applyProperties(existing, update)
		existing.SetProperty(node.PropDate, node.Str(fakeDate))
		writeNode(w, http.StatusOK, existing)
	case http.MethodDelete:
		if !exists || nodePath == "/" {
			http.Error(w, "NodeNotFound: "+nodePath, http.StatusNotFound)
			return
		}
		if existing.IsLocked() {
			http.Error(w, "NodeLocked: "+nodePath, http.StatusLocked)
			return
		}
		f.deleteTreeLocked(nodePath)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// applyProperties copies the properties of update onto target; nil values
// delete.
func applyProperties(target, update *node.Node) {
	for _, prop := range update.Properties() {
		if prop.ReadOnly {
			continue
		}
		if prop.Value == nil {
			target.DeleteProperty(prop.Name)
		} else {
			target.SetProperty(prop.Name, prop.Value)
		}
	}
}

func (f *FakeVOSpace) deleteTreeLocked(nodePath string) int {
	count := 0
	for key := range f.nodes {
		if key == nodePath || strings.HasPrefix(key, strings.TrimSuffix(nodePath, "/")+"/") {
			delete(f.nodes, key)
			delete(f.data, key)
			count++
		}
	}
	return count
}

func (f *FakeVOSpace) serveFiles(w http.ResponseWriter, r *http.Request, nodePath string) {
	if f.Service != "vault" {
		f.serveData(w, r, nodePath)
		return
	}
	f.mu.Lock()
	n, ok := f.nodes[nodePath]
	f.mu.Unlock()
	if r.Method != http.MethodGet || !ok || n.Type != node.DataNode {
		http.Error(w, "NodeNotFound: "+nodePath, http.StatusNotFound)
		return
	}
	target := f.base() + (&url.URL{Path: "/data" + nodePath}).EscapedPath()
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (f *FakeVOSpace) serveData(w http.ResponseWriter, r *http.Request, nodePath string) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		f.mu.Lock()
		content, ok := f.data[nodePath]
		var sum string
		if n := f.nodes[nodePath]; n != nil {
			sum = n.MD5()
		}
		f.mu.Unlock()
		if !ok {
			http.Error(w, "NodeNotFound: "+nodePath, http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("META") == "true" {
			content = []byte("SIMPLE  =                    T\n")
			sum = ""
		}
		f.mu.Lock()
		if f.corrupt[nodePath] > 0 && len(content) > 0 {
			f.corrupt[nodePath]--
			damaged := append([]byte(nil), content...)
			damaged[0] ^= 0xff
			content = damaged
		}
		f.mu.Unlock()
		if sum != "" {
			w.Header().Set("Content-MD5", sum)
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(nodePath)))
		http.ServeContent(w, r, path.Base(nodePath), time.Time{}, bytes.NewReader(content))
	case http.MethodPut:
		content, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if want := r.Header.Get("Content-MD5"); want != "" {
			got := md5.Sum(content)
			if hex.EncodeToString(got[:]) != want {
				http.Error(w, "MD5 mismatch: "+nodePath, http.StatusPreconditionFailed)
				return
			}
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		n, ok := f.nodes[nodePath]
		if !ok {
			parent, pok := f.nodes[path.Dir(nodePath)]
			if !pok || parent.Type != node.ContainerNode {
				http.Error(w, "ContainerNotFound: "+path.Dir(nodePath), http.StatusNotFound)
				return
			}
			n, _ = node.New(f.URI(nodePath), node.DataNode, nil)
			f.nodes[nodePath] = n
		}
		if n.Type != node.DataNode {
			http.Error(w, "not a data node: "+nodePath, http.StatusBadRequest)
			return
		}
		f.storeLocked(nodePath, content)
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *FakeVOSpace) newIDLocked() string {
	f.nextID++
	return strconv.Itoa(f.nextID)
}

func (f *FakeVOSpace) pathOf(uri string) (string, bool) {
	prefix := "vos://" + fakeAuthority + "!" + f.Service
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	return path.Clean("/" + strings.TrimPrefix(uri, prefix)), true
}

func (f *FakeVOSpace) serveSync(w http.ResponseWriter, r *http.Request, rest string) {
	if rest == "" || rest == "/" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var doc xmlTransferIn
		if err := xml.Unmarshal(body, &doc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		id := f.newIDLocked()
		f.syncs[id] = f.negotiateLocked(doc)
		f.mu.Unlock()
		http.Redirect(w, r, f.base()+"/synctrans/"+id+transferDoc, http.StatusSeeOther)
		return
	}

	id, suffix, _ := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	f.mu.Lock()
	result, ok := f.syncs[id]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch "/" + suffix {
	case transferDoc:
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, result)
	case "/error":
		if strings.Contains(result, "<vos:endpoint>") {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "NodeNotFound")
	default:
		http.NotFound(w, r)
	}
}

// negotiateLocked builds the result document of a synchronous transfer:
// one endpoint on the transfer route, none when a pull names a missing
// node.
func (f *FakeVOSpace) negotiateLocked(doc xmlTransferIn) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+`<vos:transfer xmlns:vos="%s" version="2.1">`, vosNamespace)
	fmt.Fprintf(&buf, "<vos:target>%s</vos:target><vos:direction>%s</vos:direction>", doc.Target, doc.Direction)
	nodePath, ok := f.pathOf(strings.TrimSpace(doc.Target))
	if ok {
		_, exists := f.data[nodePath]
		protocol := "ivo://ivoa.net/vospace/core#httpsget"
		if strings.TrimSpace(doc.Direction) == "pushToVoSpace" {
			protocol = "ivo://ivoa.net/vospace/core#httpsput"
			exists = true
		}
		if exists {
			fmt.Fprintf(&buf, `<vos:protocol uri="%s"><vos:endpoint>%s/xfer%s</vos:endpoint></vos:protocol>`, protocol, f.base(), nodePath)
		}
	}
	buf.WriteString("</vos:transfer>")
	return buf.String()
}

func (f *FakeVOSpace) startJobLocked(w http.ResponseWriter, r *http.Request, run func() (int, int, error)) {
	id := f.newIDLocked()
	f.jobs[id] = &fakeJob{run: run, phase: "PENDING"}
	http.Redirect(w, r, f.base()+"/jobs/"+id, http.StatusSeeOther)
}

func (f *FakeVOSpace) createMove(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var doc xmlTransferIn
	if err := xml.Unmarshal(body, &doc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startJobLocked(w, r, func() (int, int, error) {
		src, ok := f.pathOf(strings.TrimSpace(doc.Target))
		if !ok {
			return 0, 0, fmt.Errorf("InvalidURI: %s", doc.Target)
		}
		dst, ok := f.pathOf(strings.TrimSpace(doc.Direction))
		if !ok {
			return 0, 0, fmt.Errorf("InvalidURI: %s", doc.Direction)
		}
		if _, exists := f.nodes[src]; !exists {
			return 0, 0, fmt.Errorf("NodeNotFound: %s", src)
		}
		if target, exists := f.nodes[dst]; exists {
			if target.Type != node.ContainerNode {
				return 0, 0, fmt.Errorf("DuplicateNode: %s", dst)
			}
			dst = path.Join(dst, path.Base(src))
		}
		if parent, exists := f.nodes[path.Dir(dst)]; !exists || parent.Type != node.ContainerNode {
			return 0, 0, fmt.Errorf("ContainerNotFound: %s", path.Dir(dst))
		}
		f.renameLocked(src, dst)
		return 1, 0, nil
	})
}

func (f *FakeVOSpace) renameLocked(src, dst string) {
	moved := map[string]*node.Node{}
	for key, n := range f.nodes {
		if key == src || strings.HasPrefix(key, src+"/") {
			moved[key] = n
		}
	}
	for key, n := range moved {
		newKey := dst + strings.TrimPrefix(key, src)
		delete(f.nodes, key)
		n.URI = f.URI(newKey)
		f.nodes[newKey] = n
		if content, ok := f.data[key]; ok {
			delete(f.data, key)
			f.data[newKey] = content
		}
	}
}

func (f *FakeVOSpace) createRecursiveDelete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target := r.PostForm.Get("target")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startJobLocked(w, r, func() (int, int, error) {
		nodePath, ok := f.pathOf(target)
		if !ok {
			return 0, 0, fmt.Errorf("InvalidURI: %s", target)
		}
		if _, exists := f.nodes[nodePath]; !exists {
			return 0, 0, fmt.Errorf("NodeNotFound: %s", nodePath)
		}
		locked := 0
		for key, n := range f.nodes {
			if (key == nodePath || strings.HasPrefix(key, nodePath+"/")) && n.IsLocked() {
				locked++
			}
		}
		if locked > 0 {
			return 0, locked, nil
		}
		return f.deleteTreeLocked(nodePath), 0, nil
	})
}

func (f *FakeVOSpace) createRecursiveProps(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	update, err := node.Decode(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startJobLocked(w, r, func() (int, int, error) {
		nodePath, ok := f.pathOf(update.URI)
		if !ok {
			return 0, 0, fmt.Errorf("InvalidURI: %s", update.URI)
		}
		if _, exists := f.nodes[nodePath]; !exists {
			return 0, 0, fmt.Errorf("NodeNotFound: %s", nodePath)
		}
		count := 0
		for key, n := range f.nodes {
			if key == nodePath || strings.HasPrefix(key, strings.TrimSuffix(nodePath, "/")+"/") {
				applyProperties(n, update)
				count++
			}
		}
		return count, 0, nil
	})
}

func (f *FakeVOSpace) serveJob(w http.ResponseWriter, r *http.Request, rest string) {
	id, suffix, _ := strings.Cut(rest, "/")
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch {
	case suffix == "phase" && r.Method == http.MethodPost:
		_ = r.ParseForm()
		switch strings.ToUpper(r.PostForm.Get("PHASE")) {
		case "RUN":
			if job.phase == "PENDING" {
				success, errs, err := job.run()
				job.success, job.errs = success, errs
				job.phase = "COMPLETED"
				if err != nil {
					job.phase = "ERROR"
					job.message = err.Error()
				}
			}
		case "ABORT":
			job.phase = "ABORTED"
		}
		http.Redirect(w, r, f.base()+"/jobs/"+id, http.StatusSeeOther)
	case suffix == "error":
		_, _ = io.WriteString(w, job.message)
	case suffix == "" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+`<uws:job xmlns:uws="%s" xmlns:xlink="%s"><uws:jobId>%s</uws:jobId><uws:phase>%s</uws:phase>`,
			uwsNamespace, xlinkNS, id, job.phase)
		switch job.phase {
		case "COMPLETED", "ABORTED":
			fmt.Fprintf(w, `<uws:results><uws:result id="successcount" xlink:href="final:%d"/><uws:result id="errorcount" xlink:href="final:%d"/></uws:results>`,
				job.success, job.errs)
		case "ERROR":
			var msg bytes.Buffer
			_ = xml.EscapeText(&msg, []byte(job.message))
			fmt.Fprintf(w, `<uws:errorSummary type="fatal"><uws:message>%s</uws:message></uws:errorSummary>`, msg.String())
		}
		_, _ = io.WriteString(w, "</uws:job>")
	default:
		http.NotFound(w, r)
	}
}
