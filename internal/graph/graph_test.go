package graph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/project"
	"github.com/n0roo/toc-kit/internal/task"
)

func setupTestDB(t *testing.T) (*db.DB, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "toc-test-*")
	if err != nil {
		t.Fatalf("임시 디렉토리 생성 실패: %v", err)
	}

	database, err := db.Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("DB 열기 실패: %v", err)
	}

	return database, func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}
}

func makeTask(t *testing.T, tasks *task.Service, projectID, title string) *task.Task {
	t.Helper()
	created, err := tasks.Create(task.CreateOptions{ProjectID: projectID, Title: title})
	if err != nil {
		t.Fatalf("태스크 생성 실패: %v", err)
	}
	return created
}

func TestAddDependency(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	tasks := task.NewService(database)
	g := NewService(database)

	a := makeTask(t, tasks, "", "a")
	b := makeTask(t, tasks, "", "b")

	dep, err := g.AddDependency(b.ID, a.ID, "", 0)
	if err != nil {
		t.Fatalf("의존성 생성 실패: %v", err)
	}
	if dep.DependencyType != FinishToStart {
		t.Errorf("type = %s, want finish_to_start", dep.DependencyType)
	}

	// 동일 간선 중복 거부
	if _, err := g.AddDependency(b.ID, a.ID, "", 0); err == nil {
		t.Error("중복 의존성이 허용됨")
	}
}

func TestCycleRejection(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	tasks := task.NewService(database)
	g := NewService(database)

	a := makeTask(t, tasks, "", "a")
	b := makeTask(t, tasks, "", "b")
	c := makeTask(t, tasks, "", "c")

	// 자기 자신
	if _, err := g.AddDependency(a.ID, a.ID, "", 0); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("자기 의존성 거부 실패: %v", err)
	}

	// a ← b ← c 이후 a → c는 순환
	if _, err := g.AddDependency(b.ID, a.ID, "", 0); err != nil {
		t.Fatalf("의존성 생성 실패: %v", err)
	}
	if _, err := g.AddDependency(c.ID, b.ID, "", 0); err != nil {
		t.Fatalf("의존성 생성 실패: %v", err)
	}

	if _, err := g.AddDependency(a.ID, c.ID, "", 0); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("순환 간선이 거부되지 않음: %v", err)
	}
}

func TestBlocking(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	tasks := task.NewService(database)
	g := NewService(database)

	a := makeTask(t, tasks, "", "a")
	b := makeTask(t, tasks, "", "b")
	c := makeTask(t, tasks, "", "c")

	g.AddDependency(c.ID, a.ID, "", 0)
	g.AddDependency(c.ID, b.ID, "", 0)

	blocking, err := g.Blocking(c.ID)
	if err != nil {
		t.Fatalf("차단 의존성 조회 실패: %v", err)
	}
	if len(blocking) != 2 {
		t.Fatalf("차단 수 = %d, want 2", len(blocking))
	}

	// a 완료 후에는 b만 남아야 함
	tasks.SetStatus(a.ID, task.StatusCompleted)

	blocking, _ = g.Blocking(c.ID)
	if len(blocking) != 1 || blocking[0].ID != b.ID {
		t.Errorf("완료 반영 실패: %d개", len(blocking))
	}
}

func TestUnblock(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	tasks := task.NewService(database)
	g := NewService(database)

	a := makeTask(t, tasks, "", "a")
	waiting, _ := tasks.Create(task.CreateOptions{
		Title:           "waiting",
		KitRequirements: []task.KitRequirement{{Type: task.KitInformation, Description: "사양서"}},
	})
	g.AddDependency(waiting.ID, a.ID, "", 0)

	tasks.SetStatus(a.ID, task.StatusCompleted)

	// 풀킷 미충족이면 전이하지 않음
	unblocked, err := g.Unblock(a.ID)
	if err != nil {
		t.Fatalf("unblock 실패: %v", err)
	}
	if len(unblocked) != 0 {
		t.Errorf("풀킷 미충족인데 전이됨: %v", unblocked)
	}

	// 풀킷 충족 후에는 ready로 전이
	items, _ := tasks.KitItems(waiting.ID)
	tasks.SatisfyKitItem(items[0].ID, "")

	unblocked, _ = g.Unblock(a.ID)
	if len(unblocked) != 1 || unblocked[0] != waiting.ID {
		t.Fatalf("전이 실패: %v", unblocked)
	}

	got, _ := tasks.Get(waiting.ID)
	if got.Status != task.StatusReady {
		t.Errorf("status = %s, want ready", got.Status)
	}

	// 두 번째 호출은 아무것도 전이하지 않음 (멱등)
	unblocked, _ = g.Unblock(a.ID)
	if len(unblocked) != 0 {
		t.Errorf("ready 태스크가 다시 전이됨: %v", unblocked)
	}
}

func TestUnblockSkipsNonWaiting(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	tasks := task.NewService(database)
	g := NewService(database)

	a := makeTask(t, tasks, "", "a")
	b := makeTask(t, tasks, "", "b")
	g.AddDependency(b.ID, a.ID, "", 0)

	// 별도 블로커로 차단된 태스크는 선행 완료만으로 풀리지 않는다
	tasks.SetStatus(b.ID, task.StatusBlocked)
	tasks.SetStatus(a.ID, task.StatusCompleted)

	unblocked, _ := g.Unblock(a.ID)
	if len(unblocked) != 0 {
		t.Errorf("차단된 태스크가 자동 전이됨: %v", unblocked)
	}

	got, _ := tasks.Get(b.ID)
	if got.Status != task.StatusBlocked {
		t.Errorf("status = %s, want blocked", got.Status)
	}
}

func TestCriticalChain(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	projects := project.NewService(database)
	tasks := task.NewService(database)
	g := NewService(database)

	p, _ := projects.Create(project.CreateOptions{Name: "chain"})

	// a ← b ← c (길이 3), d ← e (길이 2)
	a := makeTask(t, tasks, p.ID, "a")
	b := makeTask(t, tasks, p.ID, "b")
	c := makeTask(t, tasks, p.ID, "c")
	d := makeTask(t, tasks, p.ID, "d")
	e := makeTask(t, tasks, p.ID, "e")

	g.AddDependency(b.ID, a.ID, "", 0)
	g.AddDependency(c.ID, b.ID, "", 0)
	g.AddDependency(e.ID, d.ID, "", 0)

	chain, err := g.CriticalChain(p.ID)
	if err != nil {
		t.Fatalf("크리티컬 체인 계산 실패: %v", err)
	}

	want := []string{a.ID, b.ID, c.ID}
	if len(chain) != 3 {
		t.Fatalf("체인 길이 = %d, want 3", len(chain))
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("chain[%d] = %s, want %s", i, chain[i], want[i])
		}
	}

	// 종점 c의 시퀀스는 0, 시작점 a는 2
	gotC, _ := tasks.Get(c.ID)
	if !gotC.IsCriticalChain || gotC.CriticalChainSequence.Int64 != 0 {
		t.Errorf("종점 시퀀스 = %+v", gotC.CriticalChainSequence)
	}
	gotA, _ := tasks.Get(a.ID)
	if !gotA.IsCriticalChain || gotA.CriticalChainSequence.Int64 != 2 {
		t.Errorf("시작점 시퀀스 = %+v", gotA.CriticalChainSequence)
	}

	// 체인 밖 태스크는 플래그가 없어야 함
	gotE, _ := tasks.Get(e.ID)
	if gotE.IsCriticalChain {
		t.Error("체인 밖 태스크에 플래그가 설정됨")
	}
}

func TestCriticalChainRecompute(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	projects := project.NewService(database)
	tasks := task.NewService(database)
	g := NewService(database)

	p, _ := projects.Create(project.CreateOptions{Name: "recompute"})

	a := makeTask(t, tasks, p.ID, "a")
	b := makeTask(t, tasks, p.ID, "b")
	c := makeTask(t, tasks, p.ID, "c")

	g.AddDependency(b.ID, a.ID, "", 0)
	g.CriticalChain(p.ID)

	// 더 긴 체인을 추가하면 이전 플래그는 재작성된다
	g.AddDependency(c.ID, b.ID, "", 0)
	chain, _ := g.CriticalChain(p.ID)

	if len(chain) != 3 {
		t.Fatalf("체인 길이 = %d, want 3", len(chain))
	}

	var flagged int
	database.QueryRow(`SELECT COUNT(*) FROM tasks WHERE project_id = ? AND is_critical_chain = 1`, p.ID).Scan(&flagged)
	if flagged != 3 {
		t.Errorf("플래그된 태스크 수 = %d, want 3", flagged)
	}
}

func TestCriticalChainEmpty(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	projects := project.NewService(database)
	g := NewService(database)

	p, _ := projects.Create(project.CreateOptions{Name: "empty"})

	chain, err := g.CriticalChain(p.ID)
	if err != nil {
		t.Fatalf("빈 프로젝트 체인 실패: %v", err)
	}
	if chain != nil {
		t.Errorf("빈 프로젝트 체인 = %v", chain)
	}
}

func TestAddDependencyDemotesDependent(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	tasks := task.NewService(database)
	g := NewService(database)

	x := makeTask(t, tasks, "", "x")
	y := makeTask(t, tasks, "", "y")

	if _, err := g.AddDependency(x.ID, y.ID, "", 0); err != nil {
		t.Fatalf("의존성 생성 실패: %v", err)
	}

	got, _ := tasks.Get(x.ID)
	if got.Status != task.StatusWaitingForKit {
		t.Fatalf("의존성 추가 후 status = %s, want waiting_for_kit", got.Status)
	}

	// 선행 완료 → 자동으로 ready 전이
	if err := tasks.SetStatus(y.ID, task.StatusCompleted); err != nil {
		t.Fatalf("선행 완료 실패: %v", err)
	}
	unblocked, err := g.Unblock(y.ID)
	if err != nil {
		t.Fatalf("Unblock 실패: %v", err)
	}
	if len(unblocked) != 1 || unblocked[0] != x.ID {
		t.Fatalf("unblocked = %v, want [%s]", unblocked, x.ID)
	}
	got, _ = tasks.Get(x.ID)
	if got.Status != task.StatusReady {
		t.Errorf("선행 완료 후 status = %s, want ready", got.Status)
	}

	// 완료된 선행만 가진 태스크는 내려가지 않는다
	z := makeTask(t, tasks, "", "z")
	if _, err := g.AddDependency(z.ID, y.ID, "", 0); err != nil {
		t.Fatalf("의존성 생성 실패: %v", err)
	}
	got, _ = tasks.Get(z.ID)
	if got.Status == task.StatusWaitingForKit {
		t.Error("완료된 선행만으로 waiting_for_kit이 되면 안 됩니다")
	}
}
