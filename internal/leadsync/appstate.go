package leadsync

import "sync"

// AppState is the shared UI state handed to every consumer that needs it.
type AppState struct {
	store *EntityStore

	mu             sync.RWMutex
	clientID       string
	selectedLeadID string
	sidebarOpen    bool
}

// AppStateView is a read-only copy of AppState.
type AppStateView struct {
	ClientID       string `json:"clientId"`
	SelectedLeadID string `json:"selectedLeadId,omitempty"`
	SelectedLead   *Lead  `json:"selectedLead,omitempty"`
	SidebarOpen    bool   `json:"sidebarOpen"`
}

func NewAppState(store *EntityStore, clientID string) *AppState {
	return &AppState{store: store, clientID: clientID}
}

func (a *AppState) ClientID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.clientID
}

// SelectLead sets the selected lead. An empty id clears the selection.
func (a *AppState) SelectLead(id string) error {
	if id != "" && a.store != nil {
		if _, ok := a.store.Lead(id); !ok {
			return ErrNotFound
		}
	}
	a.mu.Lock()
	a.selectedLeadID = id
	a.mu.Unlock()
	return nil
}

// SelectedLead resolves the selection against the store. A lead that has since
// disappeared resolves to none.
func (a *AppState) SelectedLead() (Lead, bool) {
	a.mu.RLock()
	id := a.selectedLeadID
	a.mu.RUnlock()
	if id == "" || a.store == nil {
		return Lead{}, false
	}
	return a.store.Lead(id)
}

func (a *AppState) SidebarOpen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sidebarOpen
}

func (a *AppState) ToggleSidebar() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sidebarOpen = !a.sidebarOpen
	return a.sidebarOpen
}

func (a *AppState) CloseSidebar() {
	a.mu.Lock()
	a.sidebarOpen = false
	a.mu.Unlock()
}

func (a *AppState) SetSidebarOpen(open bool) {
	a.mu.Lock()
	a.sidebarOpen = open
	a.mu.Unlock()
}

func (a *AppState) View() AppStateView {
	a.mu.RLock()
	view := AppStateView{
		ClientID:       a.clientID,
		SelectedLeadID: a.selectedLeadID,
		SidebarOpen:    a.sidebarOpen,
	}
	a.mu.RUnlock()
	if lead, ok := a.SelectedLead(); ok {
		view.SelectedLead = &lead
	} else {
		view.SelectedLeadID = ""
	}
	return view
}
